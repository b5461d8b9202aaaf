package git

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/docpages/internal/config"
)

// buildAuthMethod resolves an AuthConfig to a go-git transport method.
// Precedence: SSH key file, token, basic auth, anonymous (nil).
func buildAuthMethod(a *config.AuthConfig) (transport.AuthMethod, error) {
	if a == nil {
		return nil, nil
	}
	if a.SSHKeyPath != "" {
		keys, err := gitssh.NewPublicKeysFromFile("git", a.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("load ssh key %s: %w", a.SSHKeyPath, err)
		}
		return keys, nil
	}
	if a.Token != "" {
		user := a.Username
		if user == "" {
			// go-git's http transport requires a non-empty username for token auth.
			user = "token"
		}
		return &githttp.BasicAuth{Username: user, Password: a.Token}, nil
	}
	if a.Username != "" {
		return &githttp.BasicAuth{Username: a.Username, Password: a.Password}, nil
	}
	return nil, nil
}
