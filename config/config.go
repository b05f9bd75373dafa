package config

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// DefaultBaseDirectoryPath is where an index keeps its configuration
	// and, unless overridden, its data. It defaults to $VTREE_BASE if
	// set, otherwise to $HOME/lib/vtree.
	DefaultBaseDirectoryPath string

	defaultLeafSize       uint32 = 64
	defaultMaxCacheSize   uint32 = 8192
	defaultAutoFlushEvery uint32 = 1000
)

func init() {
	if base := os.Getenv("VTREE_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/vtree")
	}
}

// C holds the tunables and storage configuration for one index.
// Two fields, LeafSize and MaxCacheSize, are the only ones the core
// specification names; the rest configure the ambient stack (storage
// backend selection, auto-flush cadence) around it.
type C struct {
	// Dimension is the fixed vector length for this index. It has no
	// default: the caller must supply it, matching the constructor
	// signature of the original design.
	Dimension int

	// LeafSize is the maximum number of records a leaf may hold before
	// it is split into two children.
	LeafSize uint32

	// MaxCacheSize is the capacity of the hot cache generation before
	// it is demoted to warm and a fresh hot generation is installed.
	MaxCacheSize uint32

	// AutoFlushEvery triggers an automatic Flush once this many
	// inserts and removes have accumulated since the last automatic
	// flush; an explicit Flush does not reset the count. Zero disables
	// count-based auto-flush.
	AutoFlushEvery uint32

	// AutoFlushInterval triggers an automatic Flush on a ticker of
	// this period, independent of insert count. Zero disables
	// time-based auto-flush.
	AutoFlushInterval time.Duration

	// Storage selects the committed-node backend: "disk" (the
	// default, and the only one Open requires) or "paired", which
	// additionally mirrors committed node files to S3 asynchronously
	// for disaster recovery. See storage.NewPaired.
	Storage string

	S3Profile string
	S3Region  string
	S3Bucket  string

	// base is the directory holding the config file this C was loaded
	// from, if any. Relative paths below are resolved against it.
	base string
}

// Default returns the configuration a fresh index should use absent
// an on-disk config file: the documented LEAF_SIZE/MAX_CACHE_SIZE
// defaults, disk storage, and auto-flush every 1000 inserts, the
// reference design's own cadence.
func Default(dimension int) C {
	return C{
		Dimension:      dimension,
		LeafSize:       defaultLeafSize,
		MaxCacheSize:   defaultMaxCacheSize,
		AutoFlushEvery: defaultAutoFlushEvery,
		Storage:        "disk",
	}
}

// Load reads a configuration file named "config" inside base,
// overlaying it on Default(dimension).
func Load(base string, dimension int) (C, error) {
	c := Default(dimension)
	filename := filepath.Join(base, "config")
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		c.base = base
		return c, nil
	}
	if err != nil {
		return C{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := load(f, &c); err != nil {
		return C{}, fmt.Errorf("config.Load %q: %w", filename, err)
	}
	c.base = base
	return c, nil
}

func load(f io.Reader, c *C) error {
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return fmt.Errorf("no separator in %q", line)
		}
		key, val := line[:i], strings.TrimSpace(line[i:])
		switch key {
		case "leaf-size":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return err
			}
			c.LeafSize = uint32(v)
		case "max-cache-size":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return err
			}
			c.MaxCacheSize = uint32(v)
		case "auto-flush-every":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return err
			}
			c.AutoFlushEvery = uint32(v)
		case "auto-flush-interval":
			d, err := time.ParseDuration(val)
			if err != nil {
				return err
			}
			c.AutoFlushInterval = d
		case "storage":
			c.Storage = val
		case "s3-bucket":
			c.S3Bucket = val
		case "s3-profile":
			c.S3Profile = val
		case "s3-region":
			c.S3Region = val
		default:
			return fmt.Errorf("unknown key %q", key)
		}
	}
	return s.Err()
}

// Initialize writes a default configuration file at baseDir/config,
// failing if one already exists.
func Initialize(baseDir string, dimension int) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("%q: could not mkdir: %w", baseDir, err)
	}
	path := filepath.Join(baseDir, "config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%q: already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%q: could not determine if it exists: %w", path, err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "leaf-size %d\n", defaultLeafSize)
	fmt.Fprintf(&buf, "max-cache-size %d\n", defaultMaxCacheSize)
	fmt.Fprintf(&buf, "auto-flush-every %d\n", defaultAutoFlushEvery)
	buf.WriteString("storage disk\n")
	return ioutil.WriteFile(path, buf.Bytes(), 0600)
}

func (c C) RootDirectoryPath() string {
	return c.base
}
