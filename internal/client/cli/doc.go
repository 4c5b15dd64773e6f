// Package cli provides the interactive gophmsg command-line client.
//
// It wires configuration, the device database, the remote store, the
// realtime feed and the object store, then runs a REPL:
//
//	login [user]            unlock a session (no user: paste a token)
//	send <peer> [-f file] [text]
//	thread <peer>           show the conversation with peer
//	read <peer>             mark peer's messages as read
//	convos                  list conversations
//	url <ref>               download link for an attachment
//	whoami                  session, device and key fingerprint
//	logout
//	exit | quit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
