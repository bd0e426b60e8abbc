package blobstore

import (
	"fmt"
	"maps"
	"strconv"
	"sync"
)

// Attribute namespace and keys understood by the object-store factories.
const (
	ConfigKey = "s3"

	BucketKey          = "bucket"
	AccessKeyIDKey     = "accessKeyId"
	SecretAccessKeyKey = "secretAccessKey"
	SessionTokenKey    = "sessionToken"
	AssumeRoleKey      = "assumeRole"
	RegionKey          = "region"
	EndpointKey        = "endpoint"
	ForcePathStyleKey  = "forcePathStyle"
)

// Configuration describes one blob store: its name, type and a bag of
// namespaced string attributes. It is safe for concurrent use.
type Configuration struct {
	Name string
	Type string

	mu         sync.RWMutex
	attributes map[string]map[string]string
}

// NewConfiguration returns an empty configuration for the named store.
func NewConfiguration(name, typ string) *Configuration {
	return &Configuration{
		Name:       name,
		Type:       typ,
		attributes: make(map[string]map[string]string),
	}
}

// Attributes returns a view of the attributes under namespace.
func (c *Configuration) Attributes(namespace string) *Attributes {
	return &Attributes{cfg: c, namespace: namespace}
}

// Attributes is a view onto a single namespace of a Configuration.
type Attributes struct {
	cfg       *Configuration
	namespace string
}

// Get returns the value for key and whether it was set.
func (a *Attributes) Get(key string) (string, bool) {
	a.cfg.mu.RLock()
	defer a.cfg.mu.RUnlock()
	v, ok := a.cfg.attributes[a.namespace][key]
	return v, ok
}

// GetString returns the value for key, or "" when unset.
func (a *Attributes) GetString(key string) string {
	v, _ := a.Get(key)
	return v
}

// GetBool parses the value for key; unset or malformed values are false.
func (a *Attributes) GetBool(key string) bool {
	v, ok := a.Get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Require returns the value for key, failing if it is unset or empty.
func (a *Attributes) Require(key string) (string, error) {
	v, ok := a.Get(key)
	if !ok || v == "" {
		return "", fmt.Errorf("missing configuration attribute %s.%s", a.namespace, key)
	}
	return v, nil
}

// Set stores value under key.
func (a *Attributes) Set(key, value string) {
	a.cfg.mu.Lock()
	defer a.cfg.mu.Unlock()
	if a.cfg.attributes == nil {
		a.cfg.attributes = make(map[string]map[string]string)
	}
	ns, ok := a.cfg.attributes[a.namespace]
	if !ok {
		ns = make(map[string]string)
		a.cfg.attributes[a.namespace] = ns
	}
	ns[key] = value
}

// All returns a copy of every attribute in the namespace.
func (a *Attributes) All() map[string]string {
	a.cfg.mu.RLock()
	defer a.cfg.mu.RUnlock()
	return maps.Clone(a.cfg.attributes[a.namespace])
}
