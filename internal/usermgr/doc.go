// Package usermgr reads and edits the local account databases
// (/etc/passwd, /etc/group, /etc/shadow) of the container root filesystem.
//
// Unknown, comment and malformed lines are preserved verbatim so a rewrite
// only ever touches the entries it changed. All writes go through
// hostfs.WriteFileAtomic.
package usermgr
