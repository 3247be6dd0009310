// Package scripts holds the JavaScript served to proxied pages.
package scripts

import (
	_ "embed"
	"fmt"
)

// AgentPath is where the proxy serves the page agent.
const AgentPath = "/__overrider/agent.js"

//go:embed agent.js
var agentJS string

// Agent returns the page agent source.
func Agent() string {
	return agentJS
}

// Tag returns the script element injected into HTML responses.
func Tag() string {
	return fmt.Sprintf(`<script src="%s" data-overrider-agent></script>`, AgentPath)
}
