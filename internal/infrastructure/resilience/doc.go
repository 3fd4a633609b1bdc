/*
Package resilience provides the circuit breaker that guards calls to the
ERP and the language model.

A breaker starts closed. FailureThreshold consecutive failures open it, and
an open breaker refuses calls with ErrCircuitOpen for Cooldown. It then lets
up to Probes calls through half-open; that many successes close it and any
failure opens it again.

	closed --[failures]--> open --[cooldown]--> half-open --[successes]--> closed
	                         ^                      |
	                         +------[failure]-------+

Healthy keeps application errors, such as a record the ERP rejected, from
tripping a breaker meant for outages:

	breaker := resilience.New("odoo", resilience.Settings{
		Healthy: func(err error) bool {
			var rpc *odoo.RPCError
			return errors.As(err, &rpc)
		},
	})
	id, err := resilience.Do(ctx, breaker, create)
*/
package resilience
