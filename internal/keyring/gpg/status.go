package gpg

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

const statusPrefix = "[GNUPG:] "

type status struct {
	Keyword string
	Args    []string
}

type statusLog []status

func parseStatus(stderr []byte) (statusLog, []string) {
	var (
		log   statusLog
		other []string
	)

	sc := bufio.NewScanner(bytes.NewReader(stderr))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !strings.HasPrefix(line, statusPrefix) {
			if strings.TrimSpace(line) != "" {
				other = append(other, line)
			}
			continue
		}

		fields := strings.Fields(strings.TrimPrefix(line, statusPrefix))
		if len(fields) == 0 {
			continue
		}
		log = append(log, status{Keyword: fields[0], Args: fields[1:]})
	}

	return log, other
}

func (l statusLog) find(keyword string) (status, bool) {
	for _, s := range l {
		if s.Keyword == keyword {
			return s, true
		}
	}
	return status{}, false
}

// hashAlgo returns the digest id from "SIG_CREATED <type> <pk_algo> <hash_algo> ...".
func (l statusLog) hashAlgo() (int, bool) {
	s, ok := l.find("SIG_CREATED")
	if !ok || len(s.Args) < 3 {
		return 0, false
	}
	id, err := strconv.Atoi(s.Args[2])
	if err != nil {
		return 0, false
	}
	return id, true
}

var invalidRecipientReasons = map[string]string{
	"0":  "no specific reason",
	"1":  "no public key",
	"2":  "ambiguous specification",
	"3":  "wrong key usage",
	"4":  "key revoked",
	"5":  "key expired",
	"6":  "no CRL known",
	"7":  "CRL too old",
	"8":  "policy mismatch",
	"9":  "not a secret key",
	"10": "key not trusted",
	"11": "missing certificate",
	"12": "missing issuer certificate",
	"13": "key disabled",
	"14": "syntax error in specification",
}

// encryptionReason explains why gpg refused a recipient.
func (l statusLog) encryptionReason() string {
	if s, ok := l.find("INV_RECP"); ok && len(s.Args) > 0 {
		if r, ok := invalidRecipientReasons[s.Args[0]]; ok {
			return r
		}
		return "invalid recipient (code " + s.Args[0] + ")"
	}
	if _, ok := l.find("NO_PUBKEY"); ok {
		return "no public key"
	}
	if s, ok := l.find("FAILURE"); ok {
		return "gpg failure " + strings.Join(s.Args, " ")
	}
	return "gpg error"
}

// signingReason explains why gpg could not produce a signature.
func (l statusLog) signingReason() string {
	switch {
	case l.has("NO_SECKEY"):
		return "no secret key"
	case l.has("KEYEXPIRED"):
		return "secret key expired"
	case l.has("KEYREVOKED"):
		return "secret key revoked"
	case l.has("BAD_PASSPHRASE"):
		return "bad passphrase"
	case l.has("MISSING_PASSPHRASE"), l.has("PINENTRY_LAUNCHED"):
		return "passphrase not available from gpg-agent"
	}
	if s, ok := l.find("INV_SGNR"); ok && len(s.Args) > 0 {
		if r, ok := invalidRecipientReasons[s.Args[0]]; ok {
			return "invalid signer: " + r
		}
	}
	if s, ok := l.find("FAILURE"); ok {
		return "gpg failure " + strings.Join(s.Args, " ")
	}
	return "gpg error"
}

func (l statusLog) has(keyword string) bool {
	_, ok := l.find(keyword)
	return ok
}
