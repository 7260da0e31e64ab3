// Package keys implements the key manager: registration, lifecycle, and
// eligibility of provider credentials.
//
// # Overview
//
// The manager owns the Key record and its state machine. Material is
// envelope-encrypted at registration and decrypted only at adapter-call
// time; every decryption emits a key_access audit event. State changes
// flow through an explicit transition table and each one persists an
// append-only StateTransition alongside the updated key.
//
// # Lifecycle
//
//	Available ──► Throttled ──► Available        (cooldown elapsed)
//	    │             │
//	    ├──► Exhausted ──► Recovering ──► Available
//	    │
//	    ├──► Disabled ──► Available              (operator re-enable)
//	    └──► Invalid  ──► Disabled               (terminal except disable)
//
// Eligibility for routing: Available, Recovering, and Throttled keys
// whose cooldown has elapsed. Disabled, Invalid, and Exhausted keys are
// never eligible.
//
// # Concurrency
//
// Mutations take a per-key striped lock; the store write happens under
// the key's lock so usage counters and transitions never interleave for
// the same key. Reads go straight to the store, which hands out
// independent copies.
//
// # Usage
//
//	manager, err := keys.NewManager(keys.Options{
//		Store:    store,
//		Envelope: env,
//	})
//	if err != nil {
//		return err
//	}
//
//	key, err := manager.Register(ctx, "sk-live-material", "openai", map[string]any{
//		"region": "us-east",
//	})
package keys
