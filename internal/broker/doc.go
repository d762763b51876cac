// Package broker implements the PTY session broker: allocation of a
// master/slave terminal pair, launching a child process as session leader
// with the slave as its controlling terminal, bidirectional byte relay
// between an external endpoint and the master, and reaping of the child's
// exit status.
package broker
