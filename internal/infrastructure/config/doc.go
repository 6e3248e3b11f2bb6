// Package config handles loading and validating PDU bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Folding the single-PDU shorthand (pdu_mac, pdu_name, outlet_filter)
//     into the pdus list
//   - Validation of required fields
//
// Security Considerations:
//   - Controller credentials should be set via PDUBRIDGE_CONTROLLER_* variables
//   - The config file should have restricted permissions (0600)
//   - String() on ControllerConfig masks the API key and password
//
// Usage:
//
//	cfg, err := config.Load("configs/pdubridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(len(cfg.PDUs))
package config
