// Package config provides centralized configuration management for keyforge.
// It handles loading configuration from multiple sources, validation, and provides
// a type-safe struct that is passed explicitly to every component.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (keyforge.yaml, configs/keyforge.yaml)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern KEYFORGE_<SECTION>_<FIELD>:
//
//	KEYFORGE_SERVER_PORT=8080
//	KEYFORGE_SECURITY_ADMIN_KEY=change-me
//	KEYFORGE_STORE_BACKEND=rest
//	KEYFORGE_STORE_URL=https://project.supabase.co/rest/v1
//	KEYFORGE_STORE_API_KEY=service-role-key
//	KEYFORGE_LIMITS_ISSUE=10
//	KEYFORGE_CLEANUP_ENABLED=true
//
// # Validation
//
// Load rejects configurations the service cannot safely run with: an empty
// admin key, a key length below MinKeyLength, an unknown store backend or a
// backend missing its connection settings.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//
// # Testing
//
// Default() returns a configuration with sensible defaults that tests can
// tweak before calling Validate.
package config
