package authtoken

// Reason is a human-readable validation failure. Rejections are expected on
// the request path, so they are returned as values and never as errors.
type Reason string

const (
	ReasonInvalidJWT         Reason = "Invalid JWT"
	ReasonKeyNotFound        Reason = "jwk not found for kid"
	ReasonInvalidSignature   Reason = "Invalid JWT signature"
	ReasonInvalidIntegration Reason = "Invalid integration"
	ReasonBlankTenantAlias   Reason = "Blank tenantAlias"
	ReasonExpired            Reason = "JWT expired"
	ReasonSignatureMissing   Reason = "signature missing"
)

func (r Reason) String() string { return string(r) }

// Result is either accepted (Reason empty) or rejected with a Reason.
type Result struct {
	// TenantAlias is the verified tenant, set when accepted.
	TenantAlias string
	// Token is the minted access key, set by MintAccessKey when accepted.
	Token  string
	Reason Reason
}

func (r Result) OK() bool { return r.Reason == "" }

// Message is the accepted value (token if minted, else tenant alias) or the
// rejection reason.
func (r Result) Message() string {
	switch {
	case !r.OK():
		return string(r.Reason)
	case r.Token != "":
		return r.Token
	default:
		return r.TenantAlias
	}
}

func rejected(reason Reason) Result { return Result{Reason: reason} }
