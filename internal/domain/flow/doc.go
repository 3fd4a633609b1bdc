/*
Package flow defines the contract every conversational business flow
implements, plus the vocabulary and reply helpers the flows share.

A flow turns a sequence of chat turns into one ERP transaction. It never
writes session records itself: it reads the snapshot it is handed and
writes back through session.Manager.

Contract:
  - DetectStart: does a fresh message ask to begin this flow?
  - DetectContinuation: is a message plain input for the active step?
  - Start: create the session and render the first prompt.
  - Step: re-prompt, advance, or finish.
  - Restart: drop the caller's sessions of this flow, then Start.

Sub-packages hold the concrete flows: timeoff, overtime, loghours,
newuser and reimbursement.
*/
package flow
