// Package config loads the daemon configuration.
//
// The file is HCL and every attribute is optional:
//
//	backend          = "wg-quick"   # "auto", "wg-quick" or "engine"
//	multiple_tunnels = false
//	restore_on_boot  = true
//	shell            = "sudo -n sh"
//	config_dir       = "/etc/wireguard"
//	state_db         = env("HOME") + "/.local/state/wgtunnel.db"
//	log_level        = "debug"
//
//	engine {
//	    fwmark = 51820
//	}
//
//	metrics {
//	    listen   = "127.0.0.1:9586"
//	    interval = "15s"
//	}
//
// Expressions may call env(name) to read the environment. Unset attributes
// take their defaults from the brand package. The file is located through
// WGTUNNEL_CONFIG, falling back to the brand default path; a missing default
// file is not an error.
package config
