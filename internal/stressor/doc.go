// Package stressor provides the per-worker execution loop of a load test.
//
// A Stressor pulls conversations from the running test's selector and
// executes them until the test is finished. Every stressor of a test shares
// one Phase: the first stressor that observes the test entering steady
// state creates and begins a Statistics instance, and the first one that
// observes it leaving steady state ends and records it. Work executed
// outside steady state hits the backend identically but is not recorded.
//
// # Basic Usage
//
//	phase := stressor.NewPhase()
//	config := stressor.DefaultConfig()
//	config.Phase = phase
//
//	s := stressor.New(0, test, config)
//	err := s.Run(ctx) // returns when test.IsFinished() or ctx is done
//
// # Conversations
//
// A Conversation drives one unit of work through the Stressor:
//
//	stressor.ConversationFunc(func(ctx context.Context, s *stressor.Stressor) error {
//	    if err := s.StartTransaction(ctx, tx); err != nil {
//	        return err
//	    }
//	    if _, err := s.MakeRequest(ctx, get); err != nil {
//	        _ = s.RollbackTransaction(ctx, tx, operation.Transaction)
//	        return err
//	    }
//	    return s.CommitTransaction(ctx, tx, operation.Transaction)
//	})
//
// ComposedConversation is the asynchronous variant: its steps return
// futures and never block the stressor goroutine. An async conversation
// stays registered with the phase window it started in until it finishes.
// Retiring the phase waits up to the drain timeout for those conversations
// and then closes the window; records arriving later are dropped.
//
// # Errors
//
// BusinessFault and MechanicalFailure abort a conversation but not the
// stressor. ContractViolation is returned from Run. A cancelled context ends
// Run without recording the interrupted attempt.
package stressor
