package models

import "encoding/json"

// Typed parameter and response shapes of the Cardano ledger SDK. The bridge
// forwards them untouched; they exist for callers that want static types.

type StakingBlockchainPointer struct {
	BlockIndex       uint32 `json:"blockIndex"`
	TxIndex          uint32 `json:"txIndex"`
	CertificateIndex uint32 `json:"certificateIndex"`
}

type GetExtendedPublicKeyRequest struct {
	Path []uint32 `json:"path"`
}

type DeriveAddressRequest struct {
	AddressTypeNibble        uint8                     `json:"addressTypeNibble"`
	NetworkIdOrProtocolMagic uint32                    `json:"networkIdOrProtocolMagic"`
	SpendingPath             []uint32                  `json:"spendingPath"`
	StakingPath              []uint32                  `json:"stakingPath,omitempty"`
	StakingKeyHashHex        string                    `json:"stakingKeyHashHex,omitempty"`
	StakingBlockchainPointer *StakingBlockchainPointer `json:"stakingBlockchainPointer,omitempty"`
}

type ShowAddressRequest = DeriveAddressRequest

type VerifyAddressInfo struct {
	Address string `json:"address"`
	ShowAddressRequest
}

type SignTransactionRequest struct {
	NetworkId       uint8             `json:"networkId"`
	ProtocolMagic   uint32            `json:"protocolMagic"`
	Inputs          []json.RawMessage `json:"inputs"`
	Outputs         []json.RawMessage `json:"outputs"`
	FeeStr          string            `json:"feeStr"`
	TtlStr          string            `json:"ttlStr"`
	Certificates    []json.RawMessage `json:"certificates"`
	Withdrawals     []json.RawMessage `json:"withdrawals"`
	MetadataHashHex string            `json:"metadataHashHex,omitempty"`
}

type ExtendedPublicKeyResp struct {
	Response      json.RawMessage `json:"response"`
	DeviceVersion json.RawMessage `json:"deviceVersion"`
	DeriveSerial  json.RawMessage `json:"deriveSerial"`
}
