package tunnel

// Stage is the tagged enumeration spec.md §4.2 describes: a flat set of
// nodes, not a per-stage struct hierarchy (§9 "avoid the temptation to
// split per-stage structs").
type Stage int

const (
	StageHandshake Stage = iota
	StageHandshakeReplied
	StageS5Request
	StageS5UDPAssoc
	StageTLSConnecting
	StageTLSFirstPackage
	StageResolveDone
	StageConnectingUpstream
	StageSSRAuthSent
	StageSSRWaitingFeedback
	StageSSRReceiptSent
	StageAuthCompletionDone
	StageStreaming
	StageTLSStreaming
	StageKill
)

func (s Stage) String() string {
	switch s {
	case StageHandshake:
		return "HANDSHAKE"
	case StageHandshakeReplied:
		return "HANDSHAKE_REPLIED"
	case StageS5Request:
		return "S5_REQUEST"
	case StageS5UDPAssoc:
		return "S5_UDP_ASSOC"
	case StageTLSConnecting:
		return "TLS_CONNECTING"
	case StageTLSFirstPackage:
		return "TLS_FIRST_PACKAGE"
	case StageResolveDone:
		return "RESOLVE_DONE"
	case StageConnectingUpstream:
		return "CONNECTING_UPSTREAM"
	case StageSSRAuthSent:
		return "SSR_AUTH_SENT"
	case StageSSRWaitingFeedback:
		return "SSR_WAITING_FEEDBACK"
	case StageSSRReceiptSent:
		return "SSR_RECEIPT_SENT"
	case StageAuthCompletionDone:
		return "AUTH_COMPLETION_DONE"
	case StageStreaming:
		return "STREAMING"
	case StageTLSStreaming:
		return "TLS_STREAMING"
	case StageKill:
		return "KILL"
	default:
		return "UNKNOWN"
	}
}
