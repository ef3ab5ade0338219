package common

// AccessTokenHeaderName is the gRPC metadata key that carries the access
// token on inbound requests and streams.
const AccessTokenHeaderName = "access_token"

// PublicKeyArmorType is the PEM block type of an armored user or server
// public key.
const PublicKeyArmorType = "SECURECHAT PUBLIC KEY"
