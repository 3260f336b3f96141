// Package dispatcher delivers protocol messages to counterparties and
// classifies the result as success, retryable failure or fatal failure.
//
// Handlers never see transport errors directly. They inspect the returned
// [Outcome] or convert it with [Outcome.Err], which maps a fatal failure to a
// permanent handler error and a retryable failure to an ordinary one:
//
//	out := d.Send(ctx, dispatcher.Message{
//	    Protocol:            "dataspace-protocol-http",
//	    CounterpartyAddress: "https://provider.example.com/dsp",
//	    Type:                message.ContractRequest,
//	    ProcessID:           e.ID,
//	    Payload:             body,
//	})
//	if err := out.Err(); err != nil {
//	    return handler.Result{}, err
//	}
//
// # Transports
//
// [HTTPDispatcher] POSTs the message as JSON. Transient statuses and network
// errors are retried in place with exponential backoff before the failure is
// reported as retryable; the engine then applies its own per-state backoff.
// A [Limiter] throttles traffic per counterparty address.
//
// [Registry] routes each message to the dispatcher registered for its
// protocol.
package dispatcher
