package all

// 统一导入所有内置策略以触发 init() 注册。
// 这样 cmd/bot/main.go 只需要导入这一处，新增策略时不再修改入口代码。

import (
	_ "github.com/betbot/blackpanther/internal/strategies/cashcow"
	_ "github.com/betbot/blackpanther/internal/strategies/sniper"
	_ "github.com/betbot/blackpanther/internal/strategies/trendkiller"
)
