// Package images provides the registry client used to seed the sandbox
// image cache.
//
// RemoteClient satisfies sandbox.ImageClient: it pulls an image over the
// registry API with go-containerregistry and writes it as a tarball that
// "podman load -i" accepts.
package images
