package smtptest

const (
	StatusServiceReady = "220 %s ESMTP service ready" // server hostname
	StatusConnClosed   = "221 %s closing connection"  // server hostname
	StatusAuthSuccess  = "235 2.7.0 Accepted"
	StatusOK           = "250 OK"
	StatusQueued       = "250 OK %s"
	StatusGreeting     = "250-%s greets %s" // server hostname, client hostname

	StatusStartMailInput = "354 Start mail input; end with <CRLF>.<CRLF>"

	StatusBadCommand           = "500 Unrecognized command"
	StatusLineTooLong          = "500 Line too long"
	StatusInvalidBase64        = "501 Invalid base64 encoding"
	StatusNotImplemented       = "502 Command not implemented"
	StatusBadSequence          = "503 Bad sequence: '%s' required first" // required command
	StatusAuthRequired         = "530 Authentication required"
	StatusAuthenticationFailed = "535 5.7.8 Username and Password not accepted"
	StatusNoSuchUser           = "550 No such user here"
	StatusTooManyRecipients    = "452 Too many recipients"
	StatusMessageTooLarge      = "552 Message size exceeds fixed maximum message size"
)

const (
	MaxRecipients  = 100
	MaxMessageSize = 10 << 20
)
