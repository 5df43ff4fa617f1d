package interfaces

import (
	"context"

	"github.com/ternarybob/jcx/internal/models"
)

// ScriptConsole executes Groovy scripts on a Jenkins server and returns their output
type ScriptConsole interface {
	RunScript(ctx context.Context, auth Authorizer, script string) (string, error)
	Probe(ctx context.Context, auth Authorizer) error
	ServerInfo(ctx context.Context, auth Authorizer) (*models.ServerInfo, error)
}

// ConsoleFactory builds a script console client for a server profile
type ConsoleFactory func(profile models.ServerProfile) ScriptConsole
