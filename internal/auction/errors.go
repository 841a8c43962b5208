package auction

import "errors"

var (
	ErrNotUndercollateralized   = errors.New("auction: vault is not undercollateralized")
	ErrVaultAlreadyAuctioned    = errors.New("auction: vault already under auction")
	ErrVaultNotAuctioned        = errors.New("auction: vault not under auction")
	ErrExposureExceeded         = errors.New("auction: collateral exposure limit reached")
	ErrStillUndercollateralized = errors.New("auction: vault is still undercollateralized")
	ErrNotEnoughBought          = errors.New("auction: payout below buyer minimum")
	ErrLeavesDust               = errors.New("auction: fill would leave debt remainder below dust")
	ErrInvalidParameter         = errors.New("auction: parameter outside allowed bounds")
	ErrUnauthorized             = errors.New("auction: caller lacks required capability")
	ErrLineNotSet               = errors.New("auction: no market line configured for key")
)
