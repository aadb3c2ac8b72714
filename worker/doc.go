// Package worker runs claimed jobs. The Steward tracks in-flight runs and
// can interrupt them, the Pool bounds how many run at once, and the
// Performer drives each job from Processing to its final state through the
// middleware chain, the retry policy and the extension filters.
package worker
