package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// secretRef is a parsed secret://name[?version=N&project=P] reference.
type secretRef struct {
	name    string
	version string
	project string
	pinned  bool
}

func parseRef(raw string) (secretRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	q := u.Query()
	ref := secretRef{
		name:    name,
		version: strings.TrimSpace(q.Get("version")),
		project: strings.TrimSpace(q.Get("project")),
	}
	ref.pinned = ref.version != ""
	if !ref.pinned {
		ref.version = latestVersion
	}
	return ref, nil
}

// localKey identifies the reference in the fallback file, which has no notion of projects.
func (r secretRef) localKey() string {
	return r.name + "@" + r.version
}

func (r secretRef) resource(defaultProject string) (string, bool) {
	project := r.project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, r.version), true
}

func (r secretRef) String() string {
	return "secret://" + r.name
}
