// Package id provides a 128-bit, time-ordered identifier and a per-process
// generator. The lock package uses it to tell apart lock owners within one
// storage instance.
//
//	g := id.NewGenerator()
//	owner := g.Next().String()
package id
