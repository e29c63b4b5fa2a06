// Package pufferblow is a client SDK for the pufferblow federated chat
// service.
//
// A Client owns one global WebSocket for real-time traffic and a REST
// collaborator for everything else: sign-in, channel management, DM
// history, attachment upload, and federation discovery.
//
// # Connecting
//
//	client, err := pufferblow.New(pufferblow.Options{
//		BaseURL:  "http://localhost:7575",
//		Username: "alice",
//		Password: os.Getenv("PUFFERBLOW_PASSWORD"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnMessage("printer", "", func(m *wire.Message) error {
//		fmt.Printf("[%s] %s: %s\n", m.ChannelID, m.SenderID, m.Body)
//		return nil
//	})
//
//	if err := client.ConnectGlobal(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Connection drops recover automatically with capped exponential
// backoff. When the retry budget is exhausted, Options.OnError fires
// once and the client is permanently closed.
//
// # Channel sockets
//
// CreateChannelSocket claims a channel for dedicated handling over the
// shared connection; CreateDedicatedChannelSocket gives the channel its
// own connection with independent reconnection. While a socket lives,
// that channel's messages bypass global handlers. A second socket for
// the same channel fails with ErrAlreadySubscribed until the first is
// closed.
//
// # Direct messages and federation
//
// SendDirectMessage accepts "name" for local peers and "name@domain"
// for remote ones. Remote actors are resolved through discovery with a
// TTL cache; the derived conversation id is the same no matter which
// side computes it. LoadDirectMessages pages history newest-first,
// pages starting at 1.
package pufferblow
