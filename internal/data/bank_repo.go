package data

import (
	"fmt"

	"hashmatch/internal/biz"
	"hashmatch/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// NewBankRepo selects the bank store named by data.bank_store.driver.
func NewBankRepo(d *Data, c *conf.Data, clock biz.Clock, logger log.Logger) (biz.BankRepo, error) {
	switch driver := c.GetBankStoreDriver(); driver {
	case DriverMemory:
		return NewMemoryBankRepo(clock), nil
	case DriverPostgres:
		return NewPostgresBankRepo(d, logger), nil
	default:
		return nil, fmt.Errorf("unknown bank store driver %q", driver)
	}
}
