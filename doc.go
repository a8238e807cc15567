// Package anchorid is the core state-and-authentication engine of a mobile
// identity SDK: a concurrency-safe application-state store with typed change
// subscriptions and debounced persistence, a token lifecycle manager with
// single-flight refresh and clock-skew-aware expiry, and a declarative
// automation engine evaluating rule trees against state and UI snapshots.
//
// The core is a library. Hosts provide the storage and UI collaborators,
// construct one Engine per identity context, and drive it:
//
//	eng, err := anchorid.New(anchorid.Default(), storage, uiSource)
//	if err != nil {
//		return err
//	}
//	eng.Start(ctx)
//	defer eng.Close()
//
//	auth, err := eng.Tokens.ValidToken(ctx)
package anchorid
