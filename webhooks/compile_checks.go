package webhooks

var (
	_ Verifier = SignatureVerifier{}
	_ Verifier = SecretVerifier{}
	_ Handler  = HandlerFunc(nil)
)
