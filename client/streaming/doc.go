// Copyright 2018 Cryptowatch. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license which can be found in the LICENSE file.

/*
Package streaming delivers CopyFactory events to listeners by long polling
the stream endpoints of the API. There are three managers, one per event
family: StopoutListenerManager, TransactionListenerManager and
UserLogListenerManager.

Listeners

A listener implements one of StopoutListener, TransactionListener or
UserLogListener. It may also implement ErrorListener to receive fetch
errors and errors of its own callbacks:

	type printer struct{}

	func (printer) OnStopout(stopouts []common.Stopout) error {
		for _, s := range stopouts {
			fmt.Println(s.Strategy.ID, s.Reason)
		}
		return nil
	}

	func (printer) OnError(err error) {
		log.Println(err)
	}

Each registered listener gets its own poll loop. The loop fetches the next
batch, moves its cursor past the batch, and then calls the listener with
the whole batch, so a batch is never delivered twice, even when the
callback fails. Callbacks of one listener never run concurrently.

Errors

Failed fetches are retried forever with exponential backoff, except for
authentication errors (rest.KindUnauthorized, rest.KindForbidden), which
move the listener to ListenerFailed. Errors returned by callbacks and
panics in callbacks are passed to OnError and polling continues.

Removing listeners

RemoveXListener funcs return immediately and may be called from within a
callback. Once removal returns, no further batch is dispatched to the
listener: a fetch in flight is aborted and its result is discarded. A
callback which had already been entered runs to completion, and removal
does not wait for it; use Close to wait until all loops have quit.
*/
package streaming
