// Package secrets resolves per-instance object storage credentials from the
// secrets directory mounted into the notebook server.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KeyURL       = "MINIO_URL"
	KeyAccessKey = "MINIO_ACCESS_KEY"
	KeySecretKey = "MINIO_SECRET_KEY"

	// DocumentSuffix marks the structured form of an instance's secrets.
	DocumentSuffix = ".json"

	securePrefix = "https"
)

var schemePrefix = regexp.MustCompile(`^https?://`)

// Credentials is the normalised connection info for one storage instance.
type Credentials struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// URL returns the endpoint with a scheme, whether or not it was stripped.
func (c Credentials) URL() string {
	if schemePrefix.MatchString(c.Endpoint) {
		return c.Endpoint
	}
	if c.Secure {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// Host returns the endpoint without its scheme.
func (c Credentials) Host() string {
	return schemePrefix.ReplaceAllString(c.Endpoint, "")
}

// SameEndpoint reports whether both records point at the same endpoint,
// ignoring whether the scheme prefix was stripped.
func (c Credentials) SameEndpoint(other Credentials) bool {
	return c.Host() == other.Host()
}

// Options configures a Resolver.
type Options struct {
	// Dir holds one secret source per instance.
	Dir string
	// StripScheme removes http:// or https:// from the resolved endpoint.
	StripScheme bool
	Logger      *zerolog.Logger
}

// Resolver reads credentials for named instances from a secrets directory.
type Resolver struct {
	dir         string
	stripScheme bool
	logger      zerolog.Logger
}

func NewResolver(opts Options) *Resolver {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Resolver{
		dir:         opts.Dir,
		stripScheme: opts.StripScheme,
		logger:      logger.With().Str("component", "secrets").Logger(),
	}
}

// Dir returns the secrets directory the resolver reads from.
func (r *Resolver) Dir() string { return r.dir }

// Resolve returns the credentials for instance. The JSON document form
// (<dir>/<instance>.json) takes precedence over the shell export file
// (<dir>/<instance>).
func (r *Resolver) Resolve(instance string) (Credentials, error) {
	if instance == "" || strings.ContainsRune(instance, filepath.Separator) {
		return Credentials{}, pkgerrors.WithStack(&Error{
			Kind:     ErrCredentialsUnavailable,
			Instance: instance,
			Err:      errors.New("invalid instance name"),
		})
	}

	base := strings.TrimSuffix(instance, DocumentSuffix)
	docPath := filepath.Join(r.dir, base+DocumentSuffix)
	vars, path, err := r.readDocument(docPath)
	if errors.Is(err, fs.ErrNotExist) {
		vars, path, err = r.readShellFile(filepath.Join(r.dir, base))
	}
	if err != nil {
		return Credentials{}, pkgerrors.WithStack(&Error{
			Kind:     ErrCredentialsUnavailable,
			Instance: instance,
			Path:     path,
			Err:      err,
		})
	}
	if vars == nil {
		return Credentials{}, pkgerrors.WithStack(&Error{
			Kind:     ErrCredentialsMalformed,
			Instance: instance,
			Path:     path,
			Err:      errors.New("secret document is not an object of strings"),
		})
	}

	return r.build(instance, path, vars)
}

func (r *Resolver) build(instance, path string, vars map[string]string) (Credentials, error) {
	var missing []string
	for _, key := range []string{KeyURL, KeyAccessKey, KeySecretKey} {
		if strings.TrimSpace(vars[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Credentials{}, pkgerrors.WithStack(&Error{
			Kind:     ErrCredentialsMalformed,
			Instance: instance,
			Path:     path,
			Err:      fmt.Errorf("missing keys: %s", strings.Join(missing, ", ")),
		})
	}

	endpoint := strings.TrimSpace(vars[KeyURL])
	creds := Credentials{
		Endpoint:  endpoint,
		AccessKey: vars[KeyAccessKey],
		SecretKey: vars[KeySecretKey],
		Secure:    strings.HasPrefix(endpoint, securePrefix),
	}
	if r.stripScheme {
		creds.Endpoint = creds.Host()
	}
	return creds, nil
}

// readDocument returns nil vars with a nil error when the document exists but
// cannot be decoded into string values.
func (r *Resolver) readDocument(path string) (map[string]string, string, error) {
	r.logger.Debug().Str("path", path).Msg("Trying to access storage credentials")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("secret document is not valid JSON")
		return nil, path, nil
	}

	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			vars[k] = s
		}
	}
	return vars, path, nil
}

func (r *Resolver) readShellFile(path string) (map[string]string, string, error) {
	r.logger.Debug().Str("path", path).Msg("Trying to access storage credentials")

	info, err := os.Stat(path)
	if err != nil {
		return nil, path, err
	}
	if info.IsDir() {
		return nil, path, fmt.Errorf("%s is a directory", path)
	}

	vars, err := ParseExportFile(path)
	if err != nil {
		return nil, path, err
	}
	return vars, path, nil
}
