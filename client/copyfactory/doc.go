// Copyright 2018 Cryptowatch. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license which can be found in the LICENSE file.

/*
Package copyfactory provides a client for the CopyFactory trade copying API.

Connecting

All requests are authenticated with an API token, passed to New:

	cf, err := copyfactory.New(token, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer cf.Close(context.Background())

The second argument, Params, is optional. Domain selects the service
environment, and the remaining fields tune timeouts, retries, rate limiting,
logging and metrics.

Clients

CopyFactory groups the API into three clients:

	cf.Configuration // strategies, portfolio strategies and subscribers
	cf.History       // provided and subscription transactions
	cf.Trading       // resynchronization, stopouts, user logs and signals

Trading signals live on regional hosts, so they are served by a separate
SignalClient bound to one account:

	signals, err := cf.Trading.GetSignalClient(ctx, accountID)

Listeners

History and Trading can register listeners which receive transactions,
stopouts and user log records as they happen. See package streaming for the
delivery guarantees.

	id, err := cf.History.AddStrategyTransactionListener(
		streaming.TransactionListenerFunc(func(txs []common.Transaction) error {
			fmt.Println(len(txs), "new transactions")
			return nil
		}),
		strategyID, nil,
	)

Errors

Errors returned by the API are *rest.APIError, wrapped with juju/errors. Use
rest.AsAPIError, or rest.IsNotFound and friends, to inspect them. Invalid
arguments are reported as validation errors without sending a request.
*/
package copyfactory
