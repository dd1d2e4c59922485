// Package session holds the per-identity session machinery: the durable
// session record and cookie jar, the Transport that executes every exchange
// with the remote service, its retry policy and the error taxonomy failures
// are translated into.
//
// A Transport tracks session headers (session token, trust token, scnt,
// session id, account country) from every response and writes the record back
// only when a value changed. Status handling:
//
//	2xx (and explicitly accepted statuses)  success, unless the JSON body reports an error
//	421, 450, 500                           session renewal through the reauthentication hook, once
//	429, 503, timeouts, connection errors   retried per RetryPolicy, then TransientNetworkError
//	anything else                           APIResponseError or one of its remapped kinds
//
// Bodies that are not JSON are passed through untouched.
package session
