// Package procutil answers whether an OS process is still the one a record
// refers to.
//
// A bare pid is not enough: the OS recycles ids, so a lock written by a
// process that has since exited may name an unrelated live process. Records
// therefore carry the holder's start time, and Alive compares it with the
// start time the OS reports for the pid today.
package procutil
