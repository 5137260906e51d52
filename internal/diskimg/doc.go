// Package diskimg manages VM disk images on the local filesystem.
//
// Image operations (create, copy-on-write overlay, convert, resize, info) run
// qemu-img through the process invoker. Format detection and backing-chain
// inspection read qcow2 headers directly, so finding the overlays that depend
// on a disk needs no external tool.
//
// Every path accepted here is a validate.Path: callers resolve and confine
// paths before they reach this package.
package diskimg
