// Package propfile stores Java-style .properties files as objects in a bucket.
package propfile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/magiconair/properties"
	"github.com/tendant/simple-blobstore/pkg/blobstore/objectstore"
)

// File is one properties object at bucket/key. It is not safe for
// concurrent use.
type File struct {
	objects objectstore.ObjectStore
	bucket  string
	key     string
	props   *properties.Properties
}

// New returns an empty file bound to bucket/key. Nothing is read until Load.
func New(objects objectstore.ObjectStore, bucket, key string) *File {
	return &File{
		objects: objects,
		bucket:  bucket,
		key:     key,
		props:   newProperties(),
	}
}

func newProperties() *properties.Properties {
	p := properties.NewProperties()
	p.DisableExpansion = true
	return p
}

// Key returns the object key.
func (f *File) Key() string { return f.key }

func (f *File) Get(key string) (string, bool) {
	return f.props.Get(key)
}

func (f *File) Set(key, value string) {
	// With expansion disabled Set cannot fail.
	_, _, _ = f.props.Set(key, value)
}

func (f *File) Delete(key string) {
	f.props.Delete(key)
}

// Keys returns the property names in sorted order.
func (f *File) Keys() []string {
	keys := f.props.Keys()
	slices.Sort(keys)
	return keys
}

// Exists reports whether the object is present.
func (f *File) Exists(ctx context.Context) (bool, error) {
	return f.objects.ObjectExists(ctx, f.bucket, f.key)
}

// Load replaces the in-memory properties with the stored object.
// A missing object yields objectstore.ErrNotFound.
func (f *File) Load(ctx context.Context) error {
	rc, err := f.objects.GetObject(ctx, f.bucket, f.key)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", f, err)
	}

	loader := properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f, err)
	}
	p.DisableExpansion = true
	f.props = p
	return nil
}

// Store writes the properties, keys sorted, replacing any existing object.
func (f *File) Store(ctx context.Context) error {
	var buf bytes.Buffer
	for _, k := range f.Keys() {
		v, _ := f.props.Get(k)
		buf.WriteString(encodeEntry(k, v))
	}
	return f.objects.PutObject(ctx, f.bucket, f.key, &buf)
}

// encodeEntry renders one "key = value" line. The library escapes spaces and
// colons in keys but leaves '=', which the parser takes as the separator, and
// a leading '#' or '!', which starts a comment. Backslashes in the encoded
// key are already doubled, so every '=' left in it is literal.
func encodeEntry(key, value string) string {
	bare := strings.TrimSuffix(encodeLine(key, ""), " = \n")
	line := encodeLine(key, value)

	escaped := strings.ReplaceAll(bare, "=", `\=`)
	if strings.HasPrefix(escaped, "#") || strings.HasPrefix(escaped, "!") {
		escaped = `\` + escaped
	}
	return escaped + line[len(bare):]
}

func encodeLine(key, value string) string {
	p := newProperties()
	_, _, _ = p.Set(key, value)
	var b strings.Builder
	// strings.Builder writes cannot fail
	_, _ = p.Write(&b, properties.UTF8)
	return b.String()
}

// Remove deletes the object. Removing a missing object is not an error.
func (f *File) Remove(ctx context.Context) error {
	return f.objects.DeleteObject(ctx, f.bucket, f.key)
}

func (f *File) String() string {
	return f.bucket + "/" + f.key
}
