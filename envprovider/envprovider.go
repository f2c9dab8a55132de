// Package envprovider supplies the plain string maps spec.md §6 calls for:
// the invoking user's host environment, and whatever proxy variables are
// set, for the daemon-client adapter to resolve config.EnvExpr references
// against.
package envprovider

import (
	"os"
	"strings"
)

var proxyVarNames = []string{
	"http_proxy", "https_proxy", "no_proxy", "ftp_proxy", "all_proxy",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "FTP_PROXY", "ALL_PROXY",
}

// HostEnvironment returns every environment variable visible to this
// process, keyed by name.
func HostEnvironment() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// ProxyEnvironment returns whichever of the conventional proxy variables
// are set in the host environment.
func ProxyEnvironment() map[string]string {
	host := HostEnvironment()
	out := make(map[string]string)
	for _, name := range proxyVarNames {
		if v, ok := host[name]; ok {
			out[name] = v
		}
	}
	return out
}
