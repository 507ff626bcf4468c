package scriptbridge

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shaharia-lab/scriptbridge/modal"
)

const (
	defaultConstructor  = "Android"
	defaultCallBinding  = "droid_rpc"
	defaultEventBinding = "droid_callback"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Bootstrap names the objects the bootstrap code defines and uses.
//
// Constructor is the global object scripts call into. CallBinding must expose
// call(requestText) returning the response text, and EventBinding must expose
// registerEventCallback(eventName, handlerCode).
type Bootstrap struct {
	Constructor  string `json:"constructor"`
	CallBinding  string `json:"call_binding"`
	EventBinding string `json:"event_binding"`
}

// DefaultBootstrap returns the stock binding names.
func DefaultBootstrap() Bootstrap {
	return Bootstrap{
		Constructor:  defaultConstructor,
		CallBinding:  defaultCallBinding,
		EventBinding: defaultEventBinding,
	}
}

// Validate checks that every name is a plain script identifier.
func (b Bootstrap) Validate() error {
	for field, name := range map[string]string{
		"constructor":   b.Constructor,
		"call binding":  b.CallBinding,
		"event binding": b.EventBinding,
	} {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("bootstrap %s %q is not a valid identifier", field, name)
		}
	}
	return nil
}

// Code renders the bootstrap script. It defines a constructor; scripts create
// their own instance with new <Constructor>() and each instance numbers its
// requests from 1.
//
//	instance.call(method, args...)           synchronous call, throws on error
//	instance.registerCallback(name, fn)      runs fn(eventData, eventName) per event
//	<Constructor>.await(id, fn)              parks fn until resume(id, outcome)
//	<Constructor>.resume(id, outcome)        resumes a parked modal interaction
func (b Bootstrap) Code() string {
	return fmt.Sprintf(`var %[1]s = (function() {
  function %[1]s() {
    this.id = 0;
  }
  %[1]s.prototype.call = function(method) {
    this.id += 1;
    var request = JSON.stringify({
      id: this.id,
      method: method,
      params: Array.prototype.slice.call(arguments, 1)
    });
    var response = JSON.parse(%[2]s.call(request));
    if (response.error !== undefined && response.error !== null) {
      throw new Error(response.error);
    }
    return response.result;
  };
  %[1]s.prototype.registerCallback = function(eventName, handler) {
    var code = typeof handler === 'function'
      ? '(' + handler.toString() + ')(eventData, eventName);'
      : String(handler);
    %[3]s.registerEventCallback(eventName, code);
  };
  var pending = {};
  %[1]s.await = function(id, callback) {
    pending[id] = callback;
  };
  %[1]s.resume = function(id, outcome) {
    var callback = pending[id];
    if (callback) {
      delete pending[id];
      callback(outcome);
    }
  };
  return %[1]s;
})();
`, b.Constructor, b.CallBinding, b.EventBinding)
}

// ResumeCode renders the call that hands outcome to the interaction parked under id.
func (b Bootstrap) ResumeCode(id int64, outcome modal.Outcome) (string, error) {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to encode modal outcome: %w", err)
	}
	return fmt.Sprintf("%s.resume(%d, %s);", b.Constructor, id, encoded), nil
}
