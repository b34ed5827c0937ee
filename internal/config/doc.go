// Package config provides configuration management for metricsd.
//
// Configuration is loaded from environment variables using the env package
// and validated before use. Command line flags of cmd/metricsd override a
// few of the values after loading.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
