// Package publisher turns a folder of image and caption pairs into a timed
// publication plan and delivers each pair when its slot comes up.
//
// The pieces, leaves first:
//
//   - Store scans the incoming and queue folders, promotes new pairs into the
//     queue folder, and archives or deletes delivered pairs.
//   - Queue is the shuffled, ordered set of pairs eligible for planning.
//   - WindowsFor and GenerateSlots produce random future timestamps inside
//     per-day windows whose layout depends on the publication frequency.
//   - Service binds each queued pair to one slot, arms a one-shot timer per
//     pair on a timer.Wheel, and runs deliveries on a single-worker task engine.
//
// Every task carries an immutable snapshot of its pair and the epoch it was
// planned in. Teardown bumps the epoch, so work that was already handed to the
// engine before a teardown is dropped instead of delivered.
package publisher
