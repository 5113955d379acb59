package dispatch

import (
	"path"
	"strings"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// StrategyResolver picks a review strategy from the set of changed file
// paths. Security-sensitive paths win over everything else.
type StrategyResolver struct{}

var frontendExtensions = map[string]bool{
	".vue":  true,
	".tsx":  true,
	".jsx":  true,
	".css":  true,
	".scss": true,
	".js":   true,
}

var securitySubstrings = []string{
	"/auth/",
	"/middleware/",
	"secret",
	"password",
	"token",
}

// Resolve classifies the changed paths. Precedence: any security-sensitive
// path forces SecurityAudit; both frontend and backend present means
// MixedReview; frontend only means FrontendReview; everything else,
// including an empty change set, falls back to BackendReview.
func (StrategyResolver) Resolve(changedFiles []string) v1.ReviewStrategy {
	var frontend, backend bool

	for _, file := range changedFiles {
		if isSecuritySensitive(file) {
			return v1.StrategySecurityAudit
		}
		switch {
		case frontendExtensions[path.Ext(file)]:
			frontend = true
		case isBackendFile(file):
			backend = true
		}
	}

	switch {
	case frontend && backend:
		return v1.StrategyMixedReview
	case frontend:
		return v1.StrategyFrontendReview
	default:
		return v1.StrategyBackendReview
	}
}

func isSecuritySensitive(file string) bool {
	base := path.Base(file)
	lower := strings.ToLower(file)

	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	if base == "Dockerfile" || strings.HasPrefix(base, "docker-compose.") {
		return true
	}
	if strings.HasPrefix(lower, "config/auth.") || strings.Contains(lower, "/config/auth.") {
		return true
	}
	for _, sub := range securitySubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func isBackendFile(file string) bool {
	if path.Ext(file) == ".php" {
		return true
	}
	return strings.Contains(file, "migrations/") || strings.Contains(file, "database/")
}
