package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

type walletCoin struct {
	Coin                string `json:"coin"`
	Equity              string `json:"equity"`
	UsdValue            string `json:"usdValue"`
	WalletBalance       string `json:"walletBalance"`
	Locked              string `json:"locked"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
}

type walletAccount struct {
	AccountType           string       `json:"accountType"`
	TotalEquity           string       `json:"totalEquity"`
	TotalWalletBalance    string       `json:"totalWalletBalance"`
	TotalAvailableBalance string       `json:"totalAvailableBalance"`
	Coin                  []walletCoin `json:"coin"`
}

type walletResult struct {
	List []walletAccount `json:"list"`
}

// GetBalance reads the wallet. TotalValue is the account equity, which
// includes held coins valued in the quote currency.
func (c *Client) GetBalance(ctx context.Context) (*types.AccountBalance, error) {
	params := map[string]interface{}{
		"accountType": c.cfg.AccountType,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	var wallet walletResult
	serverTime, err := decodeResult("wallet balance", result, &wallet)
	if err != nil {
		return nil, err
	}
	if serverTime.IsZero() {
		serverTime = c.now()
	}
	return balanceFromWallet(wallet, c.cfg.QuoteAsset, serverTime)
}

func balanceFromWallet(wallet walletResult, quote string, at time.Time) (*types.AccountBalance, error) {
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("bybit wallet balance: no account data")
	}

	account := wallet.List[0]
	balance := &types.AccountBalance{
		QuoteAsset: quote,
		Holdings:   make(map[string]float64),
		Timestamp:  at,
	}

	var coinValue float64
	for _, coin := range account.Coin {
		amount := parseFloat64(coin.WalletBalance)
		if coin.Coin == quote {
			balance.FreeCash = amount - parseFloat64(coin.Locked)
			coinValue += amount
			continue
		}
		if amount != 0 {
			balance.Holdings[coin.Coin] = amount
		}
		coinValue += parseFloat64(coin.UsdValue)
	}

	balance.TotalValue = parseFloat64(account.TotalEquity)
	if balance.TotalValue == 0 {
		balance.TotalValue = coinValue
	}
	return balance, nil
}
