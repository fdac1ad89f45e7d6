package smtptest

type Command struct {
	Name      string
	Structure string
	Prefix    string
}

var (
	CmdEhlo = Command{
		Name:      "EHLO",
		Prefix:    "EHLO ",
		Structure: "EHLO %s",
	}

	CmdHelo = Command{
		Name:      "HELO",
		Prefix:    "HELO ",
		Structure: "HELO %s",
	}

	CmdMailFrom = Command{
		Name:      "MAIL FROM",
		Prefix:    "MAIL FROM:",
		Structure: "MAIL FROM:<%s>",
	}

	CmdRcptTo = Command{
		Name:      "RCPT TO",
		Prefix:    "RCPT TO:",
		Structure: "RCPT TO:<%s>",
	}

	CmdData = Command{
		Name:      "DATA",
		Prefix:    "DATA",
		Structure: "DATA",
	}

	CmdRset = Command{
		Name:      "RSET",
		Prefix:    "RSET",
		Structure: "RSET",
	}

	CmdNoop = Command{
		Name:      "NOOP",
		Prefix:    "NOOP",
		Structure: "NOOP",
	}

	CmdQuit = Command{
		Name:      "QUIT",
		Prefix:    "QUIT",
		Structure: "QUIT",
	}

	// extensions
	CmdAuthXOAuth2 = Command{
		Name:      "AUTH XOAUTH2",
		Prefix:    "AUTH XOAUTH2",
		Structure: "250 AUTH XOAUTH2",
	}

	Cmd8BitMIME = Command{
		Name:      "8BITMIME",
		Prefix:    "8BITMIME",
		Structure: "250-8BITMIME",
	}
)
