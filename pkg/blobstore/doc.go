// Package blobstore implements a blob store on top of an object store.
//
// Each blob is two objects under content/: a .bytes object with the raw
// content and a .properties object with its headers, SHA-1, size and
// creation time. Permanent blobs are spread across vol-NN/chap-NN
// directories; temporary blobs live under tmp/.
//
// A Store moves through NEW, STARTED and STOPPED states and enters FAILED
// when a transition fails. Data operations are only served while STARTED.
package blobstore
