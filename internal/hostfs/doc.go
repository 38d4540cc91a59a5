// Package hostfs provides safe access helpers for the container root filesystem.
//
// All absolute paths are resolved under FS.Root, which is "/" in a running
// container and a temporary directory in tests:
//
//	FS{Root: "/"}.Path("/etc/passwd")        -> /etc/passwd
//	FS{Root: "/tmp/x"}.Path("/home/ragnar")  -> /tmp/x/home/ragnar
package hostfs
