// Package stub is the transport between the supervisor and a supervised
// peer.
//
// A connection starts with a fixed-size initiator record written by the
// supervisor. After that both sides exchange CBOR messages: calls, replies
// and events. Each side serves incoming calls from its own APISet; the
// supervisor uses an empty set so that peers cannot reach anything local.
//
// A message that is valid CBOR but does not fit the envelope (a map with
// non-string keys, a field of the wrong type) is skipped and, when its id
// survived decoding, answered with "invalid-request". Malformed CBOR loses
// framing and ends the connection.
package stub
