// Package timer holds one-shot wall-clock timers for the publisher.
//
// Timers are not backed by individual time.Timer values. A Wheel keeps the
// pending set in memory and fires whatever is due when Poll runs. Poll is driven
// by a robfig/cron interval job and can also be invoked by an external keep-alive
// ping, so a host that freezes the process between requests still catches up.
//
// Each timer fires at most once: Poll removes a due timer under the lock before
// its callback runs, and Cancel removes it synchronously.
package timer
