package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/wasm"
)

// Policy decides which pair wins when several are present.
type Policy string

const (
	// Strict refuses to choose: more than one pair is AssetAmbiguous.
	// The zero Policy behaves like Strict.
	Strict Policy = "strict"
	// Newest picks the pair with the latest modification time (the later of
	// its two files). Ties go to the lexically greatest version, then name.
	Newest Policy = "newest"
)

// ParsePolicy converts a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Strict:
		return Strict, nil
	case Newest:
		return Newest, nil
	}
	return "", errors.InvalidInput(errors.PhaseConfig, "unknown selection policy "+s)
}

// Candidate is one module/glue pair found in the registry directory.
type Candidate struct {
	ModTime    time.Time
	Name       string
	Version    string
	BinaryPath string
	GluePath   string
	BinarySize int64
	GlueSize   int64
}

// Asset is the located module and its glue code.
type Asset struct {
	ModTime    time.Time
	Glue       string
	Version    string
	BinaryPath string
	GluePath   string
	Binary     []byte
}

// Registry locates the current compiler build inside a directory.
type Registry struct {
	fsys   fs.FS
	dir    string
	policy Policy
}

// New creates a registry over the root of fsys.
func New(fsys fs.FS, policy Policy) *Registry {
	return &Registry{fsys: fsys, dir: ".", policy: policy}
}

// Policy returns the configured selection policy.
func (r *Registry) Policy() Policy {
	if r.policy == "" {
		return Strict
	}
	return r.policy
}

var (
	// "<name>-<hex>" as emitted by hashing bundlers.
	hashedStem = regexp.MustCompile(`^(.+)-([0-9a-f]{8,64})$`)
	// wasm-bindgen glue references its binary by file name.
	glueBinaryRef = regexp.MustCompile(`['"/]([A-Za-z0-9_.-]+_bg\.wasm)['"]`)
)

// Candidates returns every binary that has matching glue, newest first.
// Version agreement is checked later, when a candidate is loaded.
func (r *Registry) Candidates() ([]Candidate, error) {
	entries, err := fs.ReadDir(r.fsys, r.dir)
	if err != nil {
		return nil, errors.New(errors.PhaseRegistry, errors.KindAssetMissing).
			Detail("read directory").
			Cause(err).
			Build()
	}

	glue := make(map[string]fs.DirEntry)
	var binaries []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch path.Ext(e.Name()) {
		case ".wasm":
			binaries = append(binaries, e)
		case ".js", ".mjs":
			glue[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = e
		}
	}

	var out []Candidate
	for _, be := range binaries {
		stem := strings.TrimSuffix(strings.TrimSuffix(be.Name(), ".wasm"), "_bg")
		ge, ok := glue[stem]
		if !ok {
			Logger().Debug("binary without glue", zap.String("file", be.Name()))
			continue
		}
		c, err := r.candidate(stem, be, ge)
		if err != nil {
			Logger().Warn("skipping module pair", zap.String("file", be.Name()), zap.Error(err))
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out, nil
}

func (r *Registry) candidate(stem string, be, ge fs.DirEntry) (Candidate, error) {
	bi, err := be.Info()
	if err != nil {
		return Candidate{}, err
	}
	gi, err := ge.Info()
	if err != nil {
		return Candidate{}, err
	}

	c := Candidate{
		Name:       stem,
		BinaryPath: path.Join(r.dir, be.Name()),
		GluePath:   path.Join(r.dir, ge.Name()),
		BinarySize: bi.Size(),
		GlueSize:   gi.Size(),
		ModTime:    bi.ModTime(),
	}
	if gi.ModTime().After(c.ModTime) {
		c.ModTime = gi.ModTime()
	}
	if m := hashedStem.FindStringSubmatch(stem); m != nil {
		c.Name, c.Version = m[1], m[2]
	}
	return c, nil
}

// newer orders candidates for the Newest policy.
func newer(a, b Candidate) bool {
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Name > b.Name
}

// Locate returns the selected module/glue pair. It fails with
// AssetMissing when no pair exists, and with AssetAmbiguous when several
// exist under the Strict policy.
func (r *Registry) Locate() (*Asset, error) {
	candidates, err := r.Candidates()
	if err != nil {
		return nil, err
	}

	for len(candidates) > 0 {
		if len(candidates) > 1 && r.Policy() == Strict {
			names := make([]string, len(candidates))
			for i, c := range candidates {
				names[i] = c.label()
			}
			sort.Strings(names)
			return nil, errors.AssetAmbiguous(names)
		}

		asset, err := r.load(candidates[0])
		if err == nil {
			Logger().Info("located module",
				zap.String("version", asset.Version),
				zap.String("binary", asset.BinaryPath),
				zap.String("glue", asset.GluePath),
				zap.Int("candidates", len(candidates)))
			return asset, nil
		}
		if errors.KindOf(err) != errors.KindAssetMissing {
			return nil, err
		}
		Logger().Warn("discarding module pair", zap.String("binary", candidates[0].BinaryPath), zap.Error(err))
		candidates = candidates[1:]
	}

	return nil, errors.AssetMissing("no module/glue pair in %s", r.dir)
}

func (c Candidate) label() string {
	if c.Version != "" {
		return c.Name + "@" + c.Version
	}
	return c.Name
}

// load reads a candidate and settles its version. A pair whose embedded or
// referenced version disagrees with its file names is refused.
func (r *Registry) load(c Candidate) (*Asset, error) {
	binary, err := fs.ReadFile(r.fsys, c.BinaryPath)
	if err != nil {
		return nil, errors.New(errors.PhaseRegistry, errors.KindAssetMissing).
			Path(c.BinaryPath).Detail("read module").Cause(err).Build()
	}
	glue, err := fs.ReadFile(r.fsys, c.GluePath)
	if err != nil {
		return nil, errors.New(errors.PhaseRegistry, errors.KindAssetMissing).
			Path(c.GluePath).Detail("read glue").Cause(err).Build()
	}

	if m := glueBinaryRef.FindSubmatch(glue); m != nil && string(m[1]) != path.Base(c.BinaryPath) {
		return nil, errors.AssetMissing("glue %s references %s, not %s", c.GluePath, m[1], path.Base(c.BinaryPath))
	}

	version := c.Version
	if embedded := EmbeddedVersion(binary); embedded != "" {
		if version != "" && !strings.EqualFold(embedded, version) {
			return nil, errors.AssetMissing("module %s embeds version %s, file name says %s", c.BinaryPath, embedded, version)
		}
		version = embedded
	}
	if version == "" {
		version = ContentVersion(binary)
	}

	return &Asset{
		Binary:     binary,
		Glue:       string(glue),
		Version:    version,
		BinaryPath: c.BinaryPath,
		GluePath:   c.GluePath,
		ModTime:    c.ModTime,
	}, nil
}

// EmbeddedVersion returns the version stored in the module's
// simplicity.version custom section, or "" when absent or unreadable.
func EmbeddedVersion(binary []byte) string {
	m, err := wasm.ParseModule(binary)
	if err != nil {
		return ""
	}
	data, ok := m.CustomSection(wasm.VersionSection)
	if !ok {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ContentVersion derives a version from the module bytes alone.
func ContentVersion(binary []byte) string {
	sum := sha256.Sum256(binary)
	return hex.EncodeToString(sum[:])[:16]
}
