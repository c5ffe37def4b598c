/*
Package streaming writes server-push event streams to HTTP clients.

An EventWriter encodes one JSON value per line (newline-delimited JSON,
application/x-ndjson) and flushes after every value so the client sees each
event as soon as it is produced. Every write is bounded by a deadline, which
keeps a stalled client from pinning a handler goroutine.

	ew := streaming.NewEventWriter(w, streaming.DefaultConfig())
	for ev := range events {
		if err := ew.Send(r.Context(), ev); err != nil {
			return
		}
	}

Send reports ErrClientGone once the request context is canceled and
ErrWriteTimeout when a single write exceeds its deadline.
*/
package streaming
