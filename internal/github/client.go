// Package github talks to the GitHub API as a GitHub App installation.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v60/github"
)

// AppClients hands out API clients for the installations of one GitHub App.
// Installation tokens are cached and refreshed by ghinstallation.
type AppClients struct {
	apps   *ghinstallation.AppsTransport
	apiURL string

	mu         sync.Mutex
	transports map[int64]*ghinstallation.Transport
}

// NewAppClients creates an App-authenticated client factory.
//
// privateKey can be either:
//   - Raw PEM bytes (begins with "-----BEGIN")
//   - Base64-encoded PEM bytes
//
// If privateKey is empty, the key is read from privateKeyPath. apiURL is
// only needed for GitHub Enterprise; empty targets api.github.com.
func NewAppClients(appID int64, privateKey []byte, privateKeyPath, apiURL string) (*AppClients, error) {
	key, err := resolvePrivateKey(privateKey, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("resolving private key: %w", err)
	}

	apps, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, key)
	if err != nil {
		return nil, fmt.Errorf("creating app transport: %w", err)
	}
	apiURL = strings.TrimRight(apiURL, "/")
	if apiURL != "" {
		apps.BaseURL = apiURL
	}

	return &AppClients{
		apps:       apps,
		apiURL:     apiURL,
		transports: make(map[int64]*ghinstallation.Transport),
	}, nil
}

func (a *AppClients) transport(installationID int64) *ghinstallation.Transport {
	a.mu.Lock()
	defer a.mu.Unlock()

	tr, ok := a.transports[installationID]
	if !ok {
		tr = ghinstallation.NewFromAppsTransport(a.apps, installationID)
		a.transports[installationID] = tr
	}
	return tr
}

// Installation returns a client acting as the given installation.
func (a *AppClients) Installation(installationID int64) (*Client, error) {
	gh := gogithub.NewClient(&http.Client{Transport: a.transport(installationID)})
	if a.apiURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(a.apiURL, a.apiURL)
		if err != nil {
			return nil, fmt.Errorf("configuring api url: %w", err)
		}
	}
	return NewClient(gh), nil
}

// Token returns an installation access token, used for git over HTTPS.
func (a *AppClients) Token(ctx context.Context, installationID int64) (string, error) {
	tok, err := a.transport(installationID).Token(ctx)
	if err != nil {
		return "", fmt.Errorf("installation %d token: %w", installationID, err)
	}
	return tok, nil
}

// GetFileContent reads a file as the given installation.
func (a *AppClients) GetFileContent(ctx context.Context, installationID int64, owner, repo, path string) (string, error) {
	c, err := a.Installation(installationID)
	if err != nil {
		return "", err
	}
	return c.GetFileContent(ctx, owner, repo, path, "")
}

// OpenChangeRequest opens a pull request as cr.InstallationID.
func (a *AppClients) OpenChangeRequest(ctx context.Context, cr ChangeRequest) (string, error) {
	c, err := a.Installation(cr.InstallationID)
	if err != nil {
		return "", err
	}
	return c.OpenChangeRequest(ctx, cr)
}

// resolvePrivateKey returns PEM-encoded private key bytes from either the
// provided raw/base64-encoded key or by reading from a file path.
func resolvePrivateKey(key []byte, keyPath string) ([]byte, error) {
	if len(key) > 0 {
		s := strings.TrimSpace(string(key))
		if strings.HasPrefix(s, "-----BEGIN") {
			return []byte(s), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("private key is neither PEM nor valid base64: %w", err)
			}
		}
		return decoded, nil
	}

	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file %s: %w", keyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no private key provided: set private_key or private_key_path")
}
