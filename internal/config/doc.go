// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion. Unset fields get defaults
// and the result is validated.
//
// # Configuration File
//
// Location (first match):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/config.yaml
//  3. ~/.config/parley/config.yaml
//
// When no file exists the CLI falls back to Default with the database under
// $XDG_DATA_HOME/parley.
//
// # Environment Variable Expansion
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//
//	database:
//	  driver: "sqlite"              # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "~/.local/share/parley/parley.db"
//
//	hosted:
//	  base_url: "https://api.dify.ai/v1"
//	  user: "user-123"
//	  timeout: "30s"
//
//	model:
//	  base_url: ""                   # empty for api.openai.com
//	  api_key: "${OPENAI_API_KEY}"   # used when an app has no credential
//	  default_model: "gpt-3.5-turbo"
//	  title_model: ""                # empty to title with the app's model
//	  title_timeout: "20s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	apps:
//	  - id: "support"
//	    name: "Support Bot"
//	    kind: "hosted"
//	    credential: "${DIFY_APP_KEY}"
//	  - id: "gpt"
//	    name: "GPT"
//	    kind: "direct-model"
//	    model: "gpt-4o-mini"
//	    system_prompt: "You are concise."
package config
