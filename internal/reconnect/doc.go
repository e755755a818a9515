// Package reconnect keeps a restartable audio stream alive. A Reconnector
// wraps a Stream, restarts it after unexpected stops with a fixed delay and a
// bounded number of attempts, and reports interruptions, recoveries and a
// final loss through audio.StatusNotifier.
package reconnect
